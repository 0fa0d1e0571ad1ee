package dispatch

import (
	"encoding/json"
	"strconv"

	"github.com/iamhyc/serde-ipc/internal/ffierr"
	"github.com/iamhyc/serde-ipc/internal/loader"
	"github.com/iamhyc/serde-ipc/internal/manifest"
	"github.com/iamhyc/serde-ipc/internal/registry"
	"github.com/iamhyc/serde-ipc/internal/worker"
)

// Dispatcher turns request envelopes into calls against resolved, pinned
// services and produces response envelopes.
type Dispatcher struct {
	registry *registry.Registry
	loader   *loader.Loader
	pool     *worker.Pool
}

// New returns a Dispatcher wired to reg/ld/pool.
func New(reg *registry.Registry, ld *loader.Loader, pool *worker.Pool) *Dispatcher {
	return &Dispatcher{registry: reg, loader: ld, pool: pool}
}

// Dispatch handles a single request envelope. callback is invoked exactly
// once with the response: on a pool worker for a call or a chain, or
// directly on the calling goroutine when a single request's handle fails to
// parse or resolve.
func (d *Dispatcher) Dispatch(req Request, callback func(Response)) {
	if len(req.Chain) > 0 {
		d.pool.Submit(func() { callback(d.runChain(req.ID, req.Chain)) })
		return
	}
	d.dispatchSingle(req.ID, req.Sig, req.Func, req.Args, callback)
}

func (d *Dispatcher) dispatchSingle(id, sigStr, funcName string, args []json.RawMessage, callback func(Response)) {
	handle, err := parseHandle(sigStr)
	if err != nil {
		callback(errorResponse(id, err))
		return
	}

	pinned, err := d.registry.Resolve(handle)
	if err != nil {
		callback(errorResponse(id, err))
		return
	}

	d.pool.Submit(func() {
		defer pinned.Release()
		result, class, err := d.callWithArgs(pinned.Loaded, funcName, args)
		if err != nil {
			callback(errorResponse(id, err))
			return
		}
		callback(successResponse(id, class, result))
	})
}

// runChain executes steps sequentially inside a single worker task,
// threading each step's result forward as a $ref substitution candidate.
func (d *Dispatcher) runChain(id string, steps []Descriptor) Response {
	results := make([]string, len(steps))

	var lastClass manifest.Class
	for i, step := range steps {
		args, err := substituteRefs(step.Args, results[:i])
		if err != nil {
			return errorResponse(id, err)
		}

		handle, err := parseHandle(step.Sig)
		if err != nil {
			return errorResponse(id, err)
		}
		pinned, err := d.registry.Resolve(handle)
		if err != nil {
			return errorResponse(id, err)
		}

		result, class, callErr := d.callWithArgs(pinned.Loaded, step.Func, args)
		pinned.Release()
		if callErr != nil {
			return errorResponse(id, callErr)
		}
		results[i] = result
		lastClass = class
	}

	if len(results) == 0 {
		return successResponse(id, lastClass, "")
	}
	return successResponse(id, lastClass, results[len(results)-1])
}

func (d *Dispatcher) callWithArgs(ls *loader.LoadedService, funcName string, rawArgs []json.RawMessage) (string, manifest.Class, error) {
	args := make([]loader.Arg, len(rawArgs))
	for i, raw := range rawArgs {
		a, err := loader.ExtractArg(raw)
		if err != nil {
			return "", "", err
		}
		args[i] = a
	}

	result, err := d.loader.Call(ls, funcName, args)
	return result, ls.Class, err
}

// parseHandle parses a decimal handle string. An empty string, a parse
// failure, or the reserved all-zero handle all fail fast as invalid_handle
// (spec §4.5 step 1).
func parseHandle(sigStr string) (registry.Handle, error) {
	v, err := strconv.ParseUint(sigStr, 10, 64)
	if err != nil || v == 0 {
		return 0, ffierr.New(ffierr.KindInvalidHandle, "invalid handle %q", sigStr)
	}
	return registry.Handle(v), nil
}

// substituteRefs replaces any argument value of the form {"$ref": <index>}
// with the prior chain step's result at that index, re-serialized as a
// JSON value.
func substituteRefs(args []json.RawMessage, prior []string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, raw := range args {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, ffierr.Wrap(ffierr.KindMarshalFailure, err, "chain argument is not a JSON object")
		}
		if len(obj) != 1 {
			return nil, ffierr.New(ffierr.KindMarshalFailure, "chain argument object must carry exactly one key")
		}
		for label, val := range obj {
			resolved, err := resolveRef(val, prior)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(map[string]json.RawMessage{label: resolved})
			if err != nil {
				return nil, ffierr.Wrap(ffierr.KindMarshalFailure, err, "re-encoding substituted argument")
			}
			out[i] = encoded
		}
	}
	return out, nil
}

func resolveRef(val json.RawMessage, prior []string) (json.RawMessage, error) {
	var ref struct {
		Ref *int `json:"$ref"`
	}
	if err := json.Unmarshal(val, &ref); err == nil && ref.Ref != nil {
		idx := *ref.Ref
		if idx < 0 || idx >= len(prior) {
			return nil, ffierr.New(ffierr.KindMarshalFailure, "chain $ref %d out of range", idx)
		}
		return stringToJSON(prior[idx]), nil
	}
	return val, nil
}

// stringToJSON embeds a prior step's raw result string as a JSON value: the
// parsed value if it is valid JSON, otherwise a JSON string literal.
func stringToJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	encoded, _ := json.Marshal(s)
	return json.RawMessage(encoded)
}

func errorResponse(id string, err error) Response {
	kind := string(ffierr.KindOf(err))
	if kind == "" {
		kind = string(ffierr.KindCalleeError)
	}
	return Response{
		ID: id,
		OK: false,
		Error: &ErrorDetail{
			Kind:    kind,
			Message: err.Error(),
		},
	}
}

// successResponse formats a call's raw string result into the envelope.
// c/cpp results stay a literal JSON string (the callee's C string, as-is).
// rust/python results are parsed as JSON when possible, falling back to a
// JSON string verbatim (spec §6).
func successResponse(id string, class manifest.Class, result string) Response {
	return Response{ID: id, OK: true, Result: formatResult(class, result)}
}

func formatResult(class manifest.Class, raw string) json.RawMessage {
	if class == manifest.ClassC || class == manifest.ClassCPP {
		encoded, _ := json.Marshal(raw)
		return json.RawMessage(encoded)
	}
	return stringToJSON(raw)
}
