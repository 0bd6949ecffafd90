// SPDX-License-Identifier: Apache-2.0

package roll

import (
	"context"
	"sync"

	"github.com/qcollector/fieldmigrate/pkg/schema"
)

// FormResolver supplies form definitions. The migration core does not own
// forms; the surrounding service does, and injects a resolver backed by its
// own store.
type FormResolver interface {
	FormByID(ctx context.Context, formID string) (*schema.Form, error)
}

// FormResolverFunc adapts a function to the FormResolver interface.
type FormResolverFunc func(ctx context.Context, formID string) (*schema.Form, error)

func (f FormResolverFunc) FormByID(ctx context.Context, formID string) (*schema.Form, error) {
	return f(ctx, formID)
}

// StaticForms is an in-memory FormResolver. It backs the CLI, which loads form
// definitions from files, and tests.
type StaticForms struct {
	mu    sync.RWMutex
	forms map[string]*schema.Form
}

func NewStaticForms(forms ...*schema.Form) *StaticForms {
	s := &StaticForms{forms: make(map[string]*schema.Form, len(forms))}
	for _, f := range forms {
		s.forms[f.ID] = f
	}
	return s
}

func (s *StaticForms) FormByID(_ context.Context, formID string) (*schema.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.forms[formID]
	if !ok {
		return nil, schema.FormNotFoundError{ID: formID}
	}
	return f, nil
}

// Put adds or replaces a form definition.
func (s *StaticForms) Put(f *schema.Form) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[f.ID] = f
}
