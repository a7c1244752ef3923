package browser

import (
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if !opts.Headless {
		t.Error("Expected headless to be true by default")
	}

	if opts.WaitAtMost != 30*time.Second {
		t.Errorf("Expected wait to be 30s, got %v", opts.WaitAtMost)
	}

	if opts.ViewportWidth != 1920 || opts.ViewportHeight != 1080 {
		t.Errorf("Expected viewport to be 1920x1080, got %dx%d", opts.ViewportWidth, opts.ViewportHeight)
	}
}

func TestClassify(t *testing.T) {
	err := classify("find element #x", KindNotFound, playwright.ErrTimeout)
	if kind, _ := KindOf(err); kind != KindTimeout {
		t.Errorf("Expected timeout kind, got %q", kind)
	}

	err = classify("navigate", KindNavigation, errors.New("net::ERR_NAME_NOT_RESOLVED"))
	if kind, _ := KindOf(err); kind != KindNavigation {
		t.Errorf("Expected navigation kind, got %q", kind)
	}
}
