package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ironsheep/wandbridge/internal/image"
	"github.com/ironsheep/wandbridge/internal/resource"
)

var (
	// ErrUnknownImage is returned for ids the session does not hold.
	ErrUnknownImage = errors.New("unknown image id")
	// ErrSessionFull is returned when the session already holds its limit.
	ErrSessionFull = errors.New("too many open images")
)

// Session holds the images a client opened, keyed by a uuid the client uses
// in later tool calls. It is safe for concurrent use.
//
// Images stay open until the client closes them or the session is closed.
// Closing the session closes every image it still holds.
type Session struct {
	mu     sync.RWMutex
	images map[string]*image.Image
	limit  int
}

// NewSession creates a session holding at most limit images. A limit below
// one means no limit.
func NewSession(limit int) *Session {
	return &Session{
		images: make(map[string]*image.Image),
		limit:  limit,
	}
}

// Add takes ownership of img and returns its id. When the session is full,
// img is closed and ErrSessionFull is returned.
func (s *Session) Add(img *image.Image) (string, error) {
	s.mu.Lock()
	if s.limit > 0 && len(s.images) >= s.limit {
		s.mu.Unlock()
		_ = img.Close()
		return "", fmt.Errorf("%w: limit is %d", ErrSessionFull, s.limit)
	}
	id := uuid.NewString()
	s.images[id] = img
	s.mu.Unlock()
	return id, nil
}

// Get returns the image stored under id.
func (s *Session) Get(id string) (*image.Image, error) {
	s.mu.RLock()
	img, ok := s.images[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownImage, id)
	}
	return img, nil
}

// Remove closes and forgets the image stored under id.
func (s *Session) Remove(id string) error {
	s.mu.Lock()
	img, ok := s.images[id]
	delete(s.images, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownImage, id)
	}
	return img.Close()
}

// IDs returns the ids of every open image, sorted.
func (s *Session) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images)
}

// Close closes every image and empties the session. Images already closed
// by a runtime sweep are skipped. The session stays usable.
func (s *Session) Close() error {
	s.mu.Lock()
	images := s.images
	s.images = make(map[string]*image.Image)
	s.mu.Unlock()

	var errs *multierror.Error
	for id, img := range images {
		if err := img.Close(); err != nil && !errors.Is(err, resource.ErrClosed) {
			errs = multierror.Append(errs, fmt.Errorf("image %s: %w", id, err))
		}
	}
	return errs.ErrorOrNil()
}
