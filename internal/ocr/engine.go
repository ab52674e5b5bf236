package ocr

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/ironsheep/wandbridge/internal/bridge"
	"github.com/ironsheep/wandbridge/internal/resource"
	"github.com/ironsheep/wandbridge/internal/wand"
)

// Kind names engines in the resource registry.
const Kind = "ocr"

// Property names understood by State and SetState.
const (
	PropLanguage    = "language"
	PropPageSegMode = "page_seg_mode"
)

// DefaultLanguage is used when Config.Languages is empty.
const DefaultLanguage = "eng"

// Tesseract's own default page segmentation mode for API clients.
const defaultPageSegMode = gosseract.PSM_SINGLE_BLOCK

const varPageSegMode = gosseract.SettableVariable("tessedit_pageseg_mode")

// Config configures a new Engine.
type Config struct {
	Languages      []string
	TessdataPrefix string
}

// Engine owns one Tesseract client.
type Engine struct {
	*resource.Base[*gosseract.Client]
	exec bridge.Executor
}

type clientOps struct {
	exec bridge.Executor
}

func (o clientOps) Alloc() (*gosseract.Client, error) {
	return bridge.Call(context.Background(), o.exec, func(context.Context) (*gosseract.Client, error) {
		return gosseract.NewClient(), nil
	})
}

func (o clientOps) Free(c *gosseract.Client) error {
	return bridge.Exec(context.Background(), o.exec, func(context.Context) error {
		return c.Close()
	})
}

// Clone creates a client with the same languages, tessdata prefix and
// variables. Tesseract cannot copy a client's loaded state.
func (o clientOps) Clone(c *gosseract.Client) (*gosseract.Client, error) {
	return bridge.Call(context.Background(), o.exec, func(context.Context) (*gosseract.Client, error) {
		dup := gosseract.NewClient()
		if len(c.Languages) > 0 {
			if err := dup.SetLanguage(slices.Clone(c.Languages)...); err != nil {
				_ = dup.Close()
				return nil, err
			}
		}
		if c.TessdataPrefix != "" {
			if err := dup.SetTessdataPrefix(c.TessdataPrefix); err != nil {
				_ = dup.Close()
				return nil, err
			}
		}
		for k, v := range c.Variables {
			if err := dup.SetVariable(k, v); err != nil {
				_ = dup.Close()
				return nil, err
			}
		}
		return dup, nil
	})
}

// New creates an engine on the runtime's tesseract worker.
func New(rt *wand.Runtime, cfg Config) (*Engine, error) {
	ops := clientOps{exec: rt.Worker(wand.WorkerTesseract)}
	base, err := wand.NewResource[*gosseract.Client](rt, Kind, ops)
	if err != nil {
		return nil, err
	}
	e := &Engine{Base: base, exec: ops.exec}

	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{DefaultLanguage}
	}
	err = e.run(context.Background(), func(c *gosseract.Client) error {
		if err := c.SetLanguage(langs...); err != nil {
			return fmt.Errorf("failed to set language: %w", err)
		}
		if cfg.TessdataPrefix != "" {
			if err := c.SetTessdataPrefix(cfg.TessdataPrefix); err != nil {
				return fmt.Errorf("failed to set tessdata path: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

// run executes fn on the tesseract worker against the owned client.
func (e *Engine) run(ctx context.Context, fn func(c *gosseract.Client) error) error {
	return e.Use(func(c *gosseract.Client) error {
		return bridge.Exec(ctx, e.exec, func(context.Context) error {
			return fn(c)
		})
	})
}

// Copy returns an engine with the same configuration.
func (e *Engine) Copy() (*Engine, error) {
	base, err := e.Base.Copy()
	if err != nil {
		return nil, err
	}
	return &Engine{Base: base, exec: e.exec}, nil
}

// Version reports the linked Tesseract version.
func (e *Engine) Version(ctx context.Context) (string, error) {
	var v string
	err := e.run(ctx, func(c *gosseract.Client) error {
		v = c.Version()
		return nil
	})
	return v, err
}

// Language returns the configured languages joined with "+".
func (e *Engine) Language(ctx context.Context) (string, error) {
	var lang string
	err := e.run(ctx, func(c *gosseract.Client) error {
		lang = strings.Join(c.Languages, "+")
		return nil
	})
	return lang, err
}

// SetLanguage accepts one or more codes joined with "+".
func (e *Engine) SetLanguage(ctx context.Context, lang string) error {
	langs := strings.FieldsFunc(lang, func(r rune) bool { return r == '+' })
	if len(langs) == 0 {
		return fmt.Errorf("ocr: empty language")
	}
	return e.run(ctx, func(c *gosseract.Client) error {
		return c.SetLanguage(langs...)
	})
}

func (e *Engine) PageSegMode(ctx context.Context) (gosseract.PageSegMode, error) {
	mode := defaultPageSegMode
	err := e.run(ctx, func(c *gosseract.Client) error {
		v, ok := c.Variables[varPageSegMode]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ocr: bad page segmentation mode %q", v)
		}
		mode = gosseract.PageSegMode(n)
		return nil
	})
	return mode, err
}

func (e *Engine) SetPageSegMode(ctx context.Context, mode gosseract.PageSegMode) error {
	if mode < gosseract.PSM_OSD_ONLY || mode > gosseract.PSM_RAW_LINE {
		return fmt.Errorf("ocr: page segmentation mode %d out of range", mode)
	}
	return e.run(ctx, func(c *gosseract.Client) error {
		return c.SetVariable(varPageSegMode, strconv.Itoa(int(mode)))
	})
}

// State implements resource.Stateful.
func (e *Engine) State(ctx context.Context, name string) (any, error) {
	switch name {
	case PropLanguage:
		return e.Language(ctx)
	case PropPageSegMode:
		return e.PageSegMode(ctx)
	}
	return nil, fmt.Errorf("ocr: %w %q", resource.ErrUnknownProperty, name)
}

// SetState implements resource.Stateful.
func (e *Engine) SetState(ctx context.Context, name string, value any) error {
	switch name {
	case PropLanguage:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("ocr: property %q wants string, got %T", name, value)
		}
		return e.SetLanguage(ctx, s)
	case PropPageSegMode:
		mode, ok := value.(gosseract.PageSegMode)
		if !ok {
			return fmt.Errorf("ocr: property %q wants gosseract.PageSegMode, got %T", name, value)
		}
		return e.SetPageSegMode(ctx, mode)
	}
	return fmt.Errorf("ocr: %w %q", resource.ErrUnknownProperty, name)
}

var _ resource.Stateful = (*Engine)(nil)
