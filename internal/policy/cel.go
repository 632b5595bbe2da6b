package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	pebblestore "github.com/rzbill/ripple/internal/storage/pebble"
	logpkg "github.com/rzbill/ripple/pkg/log"
)

// CELEngine is the default Engine implementation. One CEL expression may be
// installed per object name; it evaluates to a bool under the caller's
// security context. An object with no installed expression defaults to
// allow: enforcement is opt-in and begins when an expression is stored.
type CELEngine struct {
	db     *pebblestore.DB
	logger logpkg.Logger
	env    *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

var policyPrefix = []byte("policy/")

func policyKey(object string) []byte {
	k := make([]byte, 0, len(policyPrefix)+len(object))
	k = append(k, policyPrefix...)
	k = append(k, object...)
	return k
}

// NewCELEngine creates a CEL-backed policy engine persisting expressions in
// db.
func NewCELEngine(db *pebblestore.DB, logger logpkg.Logger) (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("event", cel.StringType),
		// Row under write attempts: {channel, event, payload, senderId}.
		cel.Variable("row", cel.DynType),
	)
	if err != nil {
		return nil, err
	}
	return &CELEngine{
		db:       db,
		logger:   logger.WithComponent("policy"),
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// SetPolicy compiles and installs the expression for object, replacing any
// previous one.
func (e *CELEngine) SetPolicy(ctx context.Context, object, expr string) error {
	prog, err := e.compile(expr)
	if err != nil {
		return fmt.Errorf("policy: compile %q: %w", object, err)
	}
	if err := e.db.Set(policyKey(object), []byte(expr)); err != nil {
		return err
	}
	e.mu.Lock()
	e.programs[object] = prog
	e.mu.Unlock()
	e.logger.Info("policy installed", logpkg.Str("object", object))
	return nil
}

// DropPolicy removes the expression for object, reverting it to
// default-allow.
func (e *CELEngine) DropPolicy(ctx context.Context, object string) error {
	if err := e.db.Delete(policyKey(object)); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.programs, object)
	e.mu.Unlock()
	e.logger.Info("policy dropped", logpkg.Str("object", object))
	return nil
}

// Policy returns the stored expression for object.
func (e *CELEngine) Policy(ctx context.Context, object string) (string, bool) {
	b, err := e.db.Get(policyKey(object))
	if err != nil || len(b) == 0 {
		return "", false
	}
	return string(b), true
}

// ProbeRead implements Engine.
func (e *CELEngine) ProbeRead(ctx context.Context, object string, sctx SecurityContext) (bool, error) {
	return e.eval(object, map[string]interface{}{}, sctx)
}

// AttemptWrite implements Engine.
func (e *CELEngine) AttemptWrite(ctx context.Context, object string, row map[string]interface{}, sctx SecurityContext) (bool, error) {
	if row == nil {
		row = map[string]interface{}{}
	}
	return e.eval(object, row, sctx)
}

// eval runs the object's program, if any, with a fresh activation so no
// state is shared between callers.
func (e *CELEngine) eval(object string, row map[string]interface{}, sctx SecurityContext) (bool, error) {
	prog, ok, err := e.program(object)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	out, _, err := prog.Eval(map[string]interface{}{
		"subject": sctx.Subject,
		"role":    sctx.Role,
		"channel": sctx.Channel,
		"event":   sctx.Event,
		"row":     row,
	})
	if err != nil {
		return false, fmt.Errorf("policy: eval %q: %w", object, err)
	}
	granted, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: expression for %q is not boolean", object)
	}
	return granted, nil
}

func (e *CELEngine) program(object string) (cel.Program, bool, error) {
	e.mu.RLock()
	prog, ok := e.programs[object]
	e.mu.RUnlock()
	if ok {
		return prog, true, nil
	}
	b, err := e.db.Get(policyKey(object))
	if err != nil || len(b) == 0 {
		return nil, false, nil
	}
	prog, err = e.compile(string(b))
	if err != nil {
		return nil, false, err
	}
	e.mu.Lock()
	e.programs[object] = prog
	e.mu.Unlock()
	return prog, true, nil
}

func (e *CELEngine) compile(expr string) (cel.Program, error) {
	ast, iss := e.env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, iss.Err()
	}
	checked, iss2 := e.env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, iss2.Err()
	}
	return e.env.Program(checked)
}
