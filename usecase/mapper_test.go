package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/avelov/tg-pulse/domains/discussion"
	"github.com/avelov/tg-pulse/repository"
)

func TestMapperForwardThenResolve(t *testing.T) {
	svc := NewMapperService(repository.NewMemoryDiscussionMap())

	sig := discussion.Signal{
		Kind: discussion.KindForwardCorrelation,
		Forward: &discussion.ForwardCorrelation{
			OriginChannelID:     -100123,
			OriginMessageID:     7,
			DiscussionChatID:    -100999,
			DiscussionMessageID: 42,
		},
	}
	if err := svc.Observe(context.Background(), sig); err != nil {
		t.Fatalf("Observe() unexpected error: %v", err)
	}

	link, err := svc.Resolve(context.Background(), directSignal(-100123, 7))
	if err != nil {
		t.Fatalf("Resolve() unexpected error: %v", err)
	}
	if link.DiscussionChatID != -100999 || link.DiscussionMessageID != 42 {
		t.Fatalf("resolved wrong link: %+v", link)
	}
}

func TestMapperUnknownPostIsErrNoLink(t *testing.T) {
	svc := NewMapperService(repository.NewMemoryDiscussionMap())

	_, err := svc.Resolve(context.Background(), directSignal(-100123, 99))
	if !errors.Is(err, discussion.ErrNoLink) {
		t.Fatalf("expected ErrNoLink, got %v", err)
	}
}

func TestMapperRejectsWrongSignalKind(t *testing.T) {
	svc := NewMapperService(repository.NewMemoryDiscussionMap())

	err := svc.Observe(context.Background(), discussion.Signal{Kind: discussion.KindDirectLookup})
	if err == nil {
		t.Fatal("expected an error for a direct-lookup signal fed to Observe")
	}

	_, err = svc.Resolve(context.Background(), discussion.Signal{Kind: discussion.KindForwardCorrelation})
	if err == nil {
		t.Fatal("expected an error for a forward signal fed to Resolve")
	}
}

func directSignal(channelID int64, messageID int) discussion.Signal {
	return discussion.Signal{
		Kind: discussion.KindDirectLookup,
		Direct: &discussion.DirectLookup{
			ChannelID:        channelID,
			ChannelMessageID: messageID,
		},
	}
}
