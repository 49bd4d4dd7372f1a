package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/temcen/homerec/pkg/models"
)

// Pass kinds accepted by the trigger API and the scheduler.
const (
	PassPropertyContent   = "property_content"
	PassPropertyBehavior  = "property_behavior"
	PassPropertyAll       = "property_all"
	PassUserContent       = "user_content"
	PassUserBehavior      = "user_behavior"
	PassUserComprehensive = "user_comprehensive"
)

// PassKinds lists every valid pass kind.
var PassKinds = []string{
	PassPropertyContent, PassPropertyBehavior, PassPropertyAll,
	PassUserContent, PassUserBehavior, PassUserComprehensive,
}

// IsPassKind reports whether kind names a pass.
func IsPassKind(kind string) bool {
	for _, k := range PassKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// passGuard makes passes of one entity class mutually exclusive so no pass
// reads a graph another is half way through rewriting.
type passGuard struct {
	mu sync.Mutex
}

func (g *passGuard) acquire(pass string) (func(), error) {
	if !g.mu.TryLock() {
		return nil, fmt.Errorf("%w: %s", models.ErrPassInProgress, pass)
	}
	return g.mu.Unlock, nil
}

// readContext bounds a collaborator read. A zero timeout leaves ctx as is.
func readContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
