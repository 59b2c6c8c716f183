package stepwise

import "fmt"

// registry maps a function slug to its ServableFunction. Mutated only
// during startup/registration; reads during serving take the read lock.
type registry struct {
	appID string
	funcs map[string]ServableFunction
}

func newRegistry(appID string) *registry {
	return &registry{appID: appID, funcs: map[string]ServableFunction{}}
}

// register inserts fns by their computed slug. Two functions passed in the
// same call that compute the same slug is a registration error (I5); a
// function re-registered in a later call overwrites its earlier entry, per
// §4.4.
func (r *registry) register(fns ...ServableFunction) error {
	batch := map[string]ServableFunction{}
	for _, fn := range fns {
		slug := functionSlug(r.appID, fn)
		if _, dup := batch[slug]; dup {
			return fmt.Errorf("registration error: duplicate function slug %q", slug)
		}
		batch[slug] = fn
	}

	if r.funcs == nil {
		r.funcs = map[string]ServableFunction{}
	}
	for slug, fn := range batch {
		r.funcs[slug] = fn
	}
	return nil
}

func (r *registry) lookup(slug string) (ServableFunction, bool) {
	fn, ok := r.funcs[slug]
	return fn, ok
}

func (r *registry) list() map[string]ServableFunction {
	return r.funcs
}

// manifestStep is the single synthetic entry point every registered
// function exposes to the executor; the executor never sees the user's
// individual step ids at registration time.
type manifestStep struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Runtime stepRuntime     `json:"runtime"`
	Retries *stepRetryLimit `json:"retries,omitempty"`
}

type stepRuntime struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type stepRetryLimit struct {
	Attempts int `json:"attempts"`
}

// functionSpec is the wire shape of one function within a RegisterRequest.
type functionSpec struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Triggers []functionSpecTrigger   `json:"triggers"`
	Steps    map[string]manifestStep `json:"steps"`
}

type functionSpecTrigger struct {
	Event      string `json:"event,omitempty"`
	Expression string `json:"expression,omitempty"`
	Cron       string `json:"cron,omitempty"`
}

// manifest renders every registered function as a functionSpec whose single
// step URL points back at this handler, parameterized by fnId.
func (r *registry) manifest(serveOrigin, servePath string) []functionSpec {
	specs := make([]functionSpec, 0, len(r.funcs))
	for slug, fn := range r.funcs {
		url := fmt.Sprintf("%s%s?fnId=%s&step=step", serveOrigin, servePath, slug)

		var retries *stepRetryLimit
		if n := fn.Config().retries(); n > 0 {
			retries = &stepRetryLimit{Attempts: n}
		}

		trigger := fn.Trigger()
		wireTrigger := functionSpecTrigger{
			Event:      trigger.Event,
			Expression: trigger.Expression,
			Cron:       trigger.Cron,
		}

		specs = append(specs, functionSpec{
			ID:       slug,
			Name:     fn.Name(),
			Triggers: []functionSpecTrigger{wireTrigger},
			Steps: map[string]manifestStep{
				"step": {
					ID:   "step",
					Name: "step",
					Runtime: stepRuntime{
						URL:  url,
						Type: "http",
					},
					Retries: retries,
				},
			},
		})
	}
	return specs
}
