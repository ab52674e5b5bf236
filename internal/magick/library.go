package magick

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"
)

// Wand is a handle to an image object. Zero is null.
type Wand uintptr

// PixelWand is a handle to a color object. Zero is null.
type PixelWand uintptr

var (
	// ErrNotInstantiated is reported by Check when the library was never set
	// up with Genesis or was already torn down.
	ErrNotInstantiated = errors.New("magick: library not instantiated")

	// ErrTerminated is returned by Genesis after Terminus.
	ErrTerminated = errors.New("magick: library terminated")

	// ErrUnknownHandle is reported for handles the table does not hold.
	ErrUnknownHandle = errors.New("magick: unknown handle")
)

// Error is a failed library operation together with the exception text the
// library left for it.
type Error struct {
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("magick: %s failed", e.Op)
	}
	return fmt.Sprintf("magick: %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

type wand struct {
	img       *image.NRGBA
	format    string
	quality   int
	depth     int
	exception string
}

type pixel struct {
	c         colorful.Color
	alpha     float64
	exception string
}

// DefaultAreaLimit caps the pixels of any image a wand may hold, about
// 512 MiB of NRGBA data.
const DefaultAreaLimit = 1 << 27

// Library is one instance of the imaging library and its handle table.
type Library struct {
	logger    *zap.Logger
	areaLimit int

	// mu guards the tables and lifecycle flags only. Wand contents are not
	// synchronized.
	mu           sync.Mutex
	instantiated bool
	terminated   bool
	next         uintptr
	wands        map[Wand]*wand
	pixels       map[PixelWand]*pixel

	busy       atomic.Int32
	calls      atomic.Int64
	violations atomic.Int64
}

// Option configures a Library.
type Option func(*Library)

func WithLogger(l *zap.Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.logger = l
		}
	}
}

// WithAreaLimit caps the width x height of images created, decoded, resized
// or rotated. Non-positive values keep DefaultAreaLimit.
func WithAreaLimit(pixels int) Option {
	return func(lib *Library) {
		if pixels > 0 {
			lib.areaLimit = pixels
		}
	}
}

// New returns an uninstantiated library.
func New(opts ...Option) *Library {
	lib := &Library{
		logger:    zap.NewNop(),
		areaLimit: DefaultAreaLimit,
		wands:     make(map[Wand]*wand),
		pixels:    make(map[PixelWand]*pixel),
	}
	for _, opt := range opts {
		opt(lib)
	}
	return lib
}

// AreaLimit returns the largest image, in pixels, a wand may hold.
func (l *Library) AreaLimit() int { return l.areaLimit }

func (l *Library) checkArea(width, height int) error {
	if width > 0 && height > 0 && width > l.areaLimit/height {
		return fmt.Errorf("image size %dx%d exceeds area limit of %d pixels", width, height, l.areaLimit)
	}
	return nil
}

// Genesis sets the library up. Calling it again is a no-op; calling it after
// Terminus fails.
func (l *Library) Genesis() error {
	defer l.enter()()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminated {
		return ErrTerminated
	}
	if !l.instantiated {
		l.instantiated = true
		l.logger.Debug("magick library instantiated")
	}
	return nil
}

// Terminus tears the library down, destroying every object still in the
// table. It returns how many objects were leaked. Only the first call has an
// effect.
func (l *Library) Terminus() int {
	defer l.enter()()

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.instantiated || l.terminated {
		return 0
	}
	leaked := len(l.wands) + len(l.pixels)
	clear(l.wands)
	clear(l.pixels)
	l.instantiated = false
	l.terminated = true

	if leaked > 0 {
		l.logger.Warn("magick library terminated with live objects", zap.Int("leaked", leaked))
	} else {
		l.logger.Debug("magick library terminated")
	}
	return leaked
}

// Instantiated reports whether Genesis ran and Terminus did not.
func (l *Library) Instantiated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.instantiated
}

// Live returns the number of objects currently in the table.
func (l *Library) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.wands) + len(l.pixels)
}

// Calls returns how many library calls were made.
func (l *Library) Calls() int64 { return l.calls.Load() }

// Violations returns how many calls overlapped with another call.
func (l *Library) Violations() int64 { return l.violations.Load() }

// enter marks a call in progress and returns the matching leave.
func (l *Library) enter() func() {
	l.calls.Add(1)
	if l.busy.Add(1) > 1 {
		l.violations.Add(1)
	}
	return func() { l.busy.Add(-1) }
}

func (l *Library) allocID() uintptr {
	l.next++
	return l.next
}

func (l *Library) wand(w Wand) *wand {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wands[w]
}

func (l *Library) pixel(p PixelWand) *pixel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pixels[p]
}

func (l *Library) addWand(st *wand) Wand {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.instantiated {
		return 0
	}
	w := Wand(l.allocID())
	l.wands[w] = st
	return w
}

func (l *Library) addPixel(st *pixel) PixelWand {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.instantiated {
		return 0
	}
	p := PixelWand(l.allocID())
	l.pixels[p] = st
	return p
}

// GetException returns the reason the last failed operation on w left.
func (l *Library) GetException(w Wand) string {
	defer l.enter()()
	if st := l.wand(w); st != nil {
		return st.exception
	}
	return ""
}

// ClearException resets the exception slot of w.
func (l *Library) ClearException(w Wand) {
	defer l.enter()()
	if st := l.wand(w); st != nil {
		st.exception = ""
	}
}

// PixelGetException returns the reason the last failed operation on p left.
func (l *Library) PixelGetException(p PixelWand) string {
	defer l.enter()()
	if st := l.pixel(p); st != nil {
		return st.exception
	}
	return ""
}

// Check turns the bool result of an operation on w into an error carrying
// the wand's exception text. It returns nil when ok is true.
func (l *Library) Check(w Wand, op string, ok bool) error {
	if ok {
		return nil
	}
	if !l.Instantiated() {
		return &Error{Op: op, Err: ErrNotInstantiated}
	}
	st := l.wand(w)
	if st == nil {
		return &Error{Op: op, Reason: fmt.Sprintf("wand %d", w), Err: ErrUnknownHandle}
	}
	reason := st.exception
	st.exception = ""
	return &Error{Op: op, Reason: reason}
}

// CheckPixel is Check for pixel wands.
func (l *Library) CheckPixel(p PixelWand, op string, ok bool) error {
	if ok {
		return nil
	}
	if !l.Instantiated() {
		return &Error{Op: op, Err: ErrNotInstantiated}
	}
	st := l.pixel(p)
	if st == nil {
		return &Error{Op: op, Reason: fmt.Sprintf("pixel wand %d", p), Err: ErrUnknownHandle}
	}
	reason := st.exception
	st.exception = ""
	return &Error{Op: op, Reason: reason}
}
