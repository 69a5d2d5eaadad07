package pipeline

import (
	"context"
	"sync"

	"mailpipe/internal/model"
)

type published struct {
	channel string
	id      string
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, channel, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{channel: channel, id: id})
	return nil
}

func (f *fakePublisher) on(channel string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, p := range f.sent {
		if p.channel == channel {
			ids = append(ids, p.id)
		}
	}
	return ids
}

// drain pops everything published so far.
func (f *fakePublisher) drain() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

// block makes a call wait for ctx, like a slow upstream cut off by shutdown.
type fakeCategorizer struct {
	category model.EmailCategory
	err      error
	block    bool
	calls    int
	last     ClassifyInput
}

func (f *fakeCategorizer) Classify(ctx context.Context, in ClassifyInput) (model.EmailCategory, error) {
	f.calls++
	f.last = in
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.category, f.err
}

type fakeDrafter struct {
	draft *GeneratedDraft
	err   error
	block bool
	calls int
	last  DraftInput
}

func (f *fakeDrafter) Generate(ctx context.Context, in DraftInput) (*GeneratedDraft, error) {
	f.calls++
	f.last = in
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.draft, f.err
}

type fakePrefs struct {
	phrases []string
	signoff string
	err     error
}

func (f *fakePrefs) IgnorePhrases(context.Context) ([]string, error) { return f.phrases, f.err }
func (f *fakePrefs) Signoff(context.Context) (string, error)         { return f.signoff, f.err }
