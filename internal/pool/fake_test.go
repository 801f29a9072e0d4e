package pool

import (
	"context"
	"errors"
	"sync"
)

// fakeGetter answers GETs from a url→body table; unknown urls fail.
type fakeGetter struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  []string
}

func newFakeGetter(bodies map[string]string) *fakeGetter {
	return &fakeGetter{bodies: bodies, errs: map[string]error{}}
}

func (f *fakeGetter) Get(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return []byte(body), nil
}

func (f *fakeGetter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var scenarioAgents = []Agent{
	{ReplicaIndex: 1, BaseURL: "http://a", Endpoint: "http://a-1"},
	{ReplicaIndex: 2, BaseURL: "http://a", Endpoint: "http://a-2"},
	{ReplicaIndex: 1, BaseURL: "http://b", Endpoint: "http://b-1"},
}
