// Package resolve determines which CTF a channel belongs to. Priority:
// explicit override id, then the pinned link record, then the sole
// currently active CTF. The ordering matters: several CTFs can run
// concurrently, and the per-channel binding is the only reliable way to
// tell them apart once that happens.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polyctf/orgbot/internal/chat"
	"github.com/polyctf/orgbot/internal/ctfnote"
	"github.com/polyctf/orgbot/internal/link"
	"github.com/polyctf/orgbot/internal/logging"
)

var (
	// ErrNoActiveCTF means no override or link was present and no CTF is
	// inside its time window right now.
	ErrNoActiveCTF = errors.New("no active ctf")

	// ErrAmbiguousCTF means two or more CTFs are active; the caller must
	// pass an explicit ctf id.
	ErrAmbiguousCTF = errors.New("multiple active ctfs")

	// ErrInvalidLinkedCTF means an explicit or linked ctf id does not
	// exist on the remote.
	ErrInvalidLinkedCTF = errors.New("linked ctf not found")
)

// Remote is the slice of the CTFNote client the resolver needs.
type Remote interface {
	FullCtf(ctx context.Context, id int) (*ctfnote.CTF, error)
	ActiveCtfs(ctx context.Context, now time.Time) ([]ctfnote.CTF, error)
}

// ClientFunc yields an authenticated remote handle, or an auth/transport
// error which the resolver surfaces untouched.
type ClientFunc func(ctx context.Context) (Remote, error)

// SessionClients adapts a ctfnote.Session to a ClientFunc.
func SessionClients(s *ctfnote.Session) ClientFunc {
	return func(ctx context.Context) (Remote, error) {
		return s.Client(ctx)
	}
}

// PinReader reads a channel's pinned messages.
type PinReader interface {
	PinnedMessages(ctx context.Context, channelID string) ([]chat.Message, error)
}

// Resolver implements the CTF resolution chain.
type Resolver struct {
	log     logging.Logger
	clients ClientFunc
	pins    PinReader
	now     func() time.Time
}

func New(log logging.Logger, clients ClientFunc, pins PinReader) *Resolver {
	return &Resolver{log: log, clients: clients, pins: pins, now: time.Now}
}

// Resolve returns the CTF (with tasks) governing the channel. overrideID,
// when non-nil, always wins; next the pinned link record; finally the sole
// CTF active right now.
func (r *Resolver) Resolve(ctx context.Context, channelID string, overrideID *int) (*ctfnote.CTF, error) {
	client, err := r.clients(ctx)
	if err != nil {
		return nil, err
	}

	if overrideID != nil {
		return r.fetch(ctx, client, *overrideID)
	}

	if l, ok := r.channelLink(ctx, channelID); ok {
		return r.fetch(ctx, client, l.CtfID)
	}

	active, err := client.ActiveCtfs(ctx, r.now().UTC())
	if err != nil {
		return nil, err
	}
	switch len(active) {
	case 0:
		return nil, ErrNoActiveCTF
	case 1:
		return r.fetch(ctx, client, active[0].ID)
	default:
		return nil, fmt.Errorf("%w: %d are live, pass an explicit ctf id", ErrAmbiguousCTF, len(active))
	}
}

// Link returns the channel's decoded pinned link record, if any.
func (r *Resolver) Link(ctx context.Context, channelID string) (link.ChannelLink, bool) {
	return r.channelLink(ctx, channelID)
}

func (r *Resolver) channelLink(ctx context.Context, channelID string) (link.ChannelLink, bool) {
	pinned, err := r.pins.PinnedMessages(ctx, channelID)
	if err != nil {
		// Degrade to "no binding known"; the active-window fallback still works.
		r.log.Warn(ctx, "reading pinned messages failed", "channel_id", channelID, "err", err)
		return link.ChannelLink{}, false
	}
	return link.Decode(pinned)
}

func (r *Resolver) fetch(ctx context.Context, client Remote, id int) (*ctfnote.CTF, error) {
	ctf, err := client.FullCtf(ctx, id)
	if err != nil {
		if errors.Is(err, ctfnote.ErrQueryRejected) {
			return nil, fmt.Errorf("%w: id %d", ErrInvalidLinkedCTF, id)
		}
		return nil, err
	}
	return ctf, nil
}
