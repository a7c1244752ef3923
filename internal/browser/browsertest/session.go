// Package browsertest provides an in-memory browser.Session for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/catalog-scraper/internal/browser"
)

// Session serves canned pages keyed by URL. Every command is recorded in
// Commands, and MaxInFlight tracks the most commands ever running at once.
type Session struct {
	Pages map[string]*Page
	// Delay is added to each command, which makes overlapping calls visible.
	Delay time.Duration

	mu          sync.Mutex
	current     *Page
	url         string
	inFlight    int
	maxInFlight int
	commands    []string
}

type Page struct {
	Elements map[string][]*Element
	Source   string
}

type Element struct {
	Props     map[string]string
	InnerText string
	Children  map[string][]*Element
	// SendKeysErr is returned by SendKeys instead of recording the keys.
	SendKeysErr error

	session *Session
	mu      sync.Mutex
	typed   []string
}

func NewSession(pages map[string]*Page) *Session {
	return &Session{Pages: pages}
}

// Input is an <input> with the given name attribute.
func Input(name string) *Element {
	return &Element{Props: map[string]string{"name": name}}
}

// Form is a <form> holding inputs.
func Form(inputs ...*Element) *Element {
	return &Element{Children: map[string][]*Element{"input": inputs}}
}

func (s *Session) enter(cmd string) func() {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	s.commands = append(s.commands, cmd)
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	return func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	defer s.enter("navigate " + url)()
	if err := browser.CheckContext(ctx, "navigate"); err != nil {
		return err
	}

	page, ok := s.Pages[url]
	if !ok {
		return browser.NewCommandError("navigate", browser.KindNavigation, fmt.Errorf("no page at %s", url))
	}

	s.mu.Lock()
	s.current = page
	s.url = url
	s.mu.Unlock()
	return nil
}

func (s *Session) FindElement(ctx context.Context, selector string) (browser.Element, error) {
	defer s.enter("find " + selector)()
	if err := browser.CheckContext(ctx, "find element"); err != nil {
		return nil, err
	}

	elems := s.lookup(selector)
	if len(elems) == 0 {
		return nil, browser.NewCommandError("find element "+selector, browser.KindNotFound, errors.New("no such element"))
	}
	return s.bind(elems[0]), nil
}

func (s *Session) FindAllElements(ctx context.Context, selector string) ([]browser.Element, error) {
	defer s.enter("find all " + selector)()
	if err := browser.CheckContext(ctx, "find elements"); err != nil {
		return nil, err
	}
	return s.bindAll(s.lookup(selector)), nil
}

func (s *Session) PageSource(ctx context.Context) (string, error) {
	defer s.enter("source")()
	if err := browser.CheckContext(ctx, "page source"); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "", nil
	}
	return s.current.Source, nil
}

// URL is the address of the last successful Navigate.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Session) MaxInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *Session) lookup(selector string) []*Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.Elements[selector]
}

func (s *Session) bind(e *Element) *Element {
	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
	return e
}

func (s *Session) bindAll(elems []*Element) []browser.Element {
	out := make([]browser.Element, 0, len(elems))
	for _, e := range elems {
		out = append(out, s.bind(e))
	}
	return out
}

func (e *Element) FindAllElements(ctx context.Context, selector string) ([]browser.Element, error) {
	defer e.enter("find all " + selector)()
	if err := browser.CheckContext(ctx, "find elements"); err != nil {
		return nil, err
	}
	return e.owner().bindAll(e.Children[selector]), nil
}

func (e *Element) Property(ctx context.Context, name string) (string, bool, error) {
	defer e.enter("property " + name)()
	if err := browser.CheckContext(ctx, "read property"); err != nil {
		return "", false, err
	}
	v, ok := e.Props[name]
	return v, ok, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	defer e.enter("text")()
	if err := browser.CheckContext(ctx, "read text"); err != nil {
		return "", err
	}
	return e.InnerText, nil
}

func (e *Element) SendKeys(ctx context.Context, text string) error {
	defer e.enter("keys")()
	if err := browser.CheckContext(ctx, "send keys"); err != nil {
		return err
	}
	if e.SendKeysErr != nil {
		return browser.NewCommandError("send keys", browser.KindProtocol, e.SendKeysErr)
	}

	e.mu.Lock()
	e.typed = append(e.typed, text)
	e.mu.Unlock()
	return nil
}

// Typed returns every SendKeys payload in order.
func (e *Element) Typed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.typed...)
}

func (e *Element) owner() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		e.session = &Session{}
	}
	return e.session
}

func (e *Element) enter(cmd string) func() {
	return e.owner().enter(cmd)
}
