package dhis2

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrExhausted reports that the id generator returned nothing on refill.
// Callers see an explicit failure rather than an undefined pop from an
// empty buffer.
var ErrExhausted = errors.New("dhis2: uid buffer exhausted")

// UIDProvider hands out DHIS2-generated identifiers, pre-fetched in
// batches to amortize the round trip across many entity creations in one
// synchronization run.
type UIDProvider struct {
	client *Client
	batch  int
	log    zerolog.Logger

	mu  sync.Mutex
	buf []string
}

func NewUIDProvider(client *Client, batch int, log zerolog.Logger) *UIDProvider {
	if batch <= 0 {
		batch = 100
	}
	return &UIDProvider{client: client, batch: batch, log: log}
}

// Pop returns one fresh identifier, refilling the buffer from the remote
// generator when it runs dry. A refill that yields nothing produces
// ErrExhausted; the next Pop attempts a fresh refill.
func (p *UIDProvider) Pop(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) == 0 {
		ids, err := p.client.SystemIDs(ctx, p.batch)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			p.log.Error().Msg("could not get ids from DHIS2")
			return "", ErrExhausted
		}
		p.buf = ids
	}

	id := p.buf[len(p.buf)-1]
	p.buf = p.buf[:len(p.buf)-1]
	return id, nil
}
