package model

import "strings"

// EmailCategory is the label the categorizer assigns to a message.
type EmailCategory string

const (
	CategoryNewsletter  EmailCategory = "newsletter"
	CategoryPromotional EmailCategory = "promotional"
	CategorySocial      EmailCategory = "social"
	CategorySpam        EmailCategory = "spam"
	CategoryScam        EmailCategory = "scam"
	CategoryGeneral     EmailCategory = "general"
	CategoryOther       EmailCategory = "other"
	CategoryIgnored     EmailCategory = "ignored"
	CategoryFailed      EmailCategory = "failed"
)

// EmailCategories lists every category in declaration order.
var EmailCategories = []EmailCategory{
	CategoryNewsletter,
	CategoryPromotional,
	CategorySocial,
	CategorySpam,
	CategoryScam,
	CategoryGeneral,
	CategoryOther,
	CategoryIgnored,
	CategoryFailed,
}

// ParseEmailCategory never fails. Blank input means "no category yet" and
// yields other; anything non-blank that is not a known label yields failed.
func ParseEmailCategory(s string) EmailCategory {
	s = strings.TrimSpace(s)
	if s == "" {
		return CategoryOther
	}
	for _, c := range EmailCategories {
		if strings.EqualFold(string(c), s) {
			return c
		}
	}
	return CategoryFailed
}

// Draftable reports whether mail in this category gets a reply draft.
func (c EmailCategory) Draftable() bool {
	switch c {
	case CategorySocial, CategoryGeneral, CategoryOther:
		return true
	}
	return false
}
