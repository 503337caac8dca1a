package routing

import (
	"context"
	"strings"

	"github.com/glimte/sedaflow-go/contracts"
)

// TransformFunc mutates an envelope's headers or body. A returned
// error is a processing failure handled by the route's redelivery
// policy.
type TransformFunc func(ctx context.Context, env *contracts.Envelope) error

// Predicate is a pure function of an envelope's headers and body,
// used by choice steps. Predicates must not mutate the envelope.
type Predicate func(env *contracts.Envelope) bool

// HeaderEquals matches when the header holds exactly the given value.
func HeaderEquals(key string, want any) Predicate {
	return func(env *contracts.Envelope) bool {
		v, ok := env.Header(key)
		return ok && v == want
	}
}

// HeaderExists matches when the header is present, whatever its value.
func HeaderExists(key string) Predicate {
	return func(env *contracts.Envelope) bool {
		_, ok := env.Header(key)
		return ok
	}
}

// HeaderGreaterThan matches when the header holds a numeric value
// strictly greater than threshold. Absent or non-numeric headers
// never match.
func HeaderGreaterThan(key string, threshold float64) Predicate {
	return func(env *contracts.Envelope) bool {
		v, ok := env.HeaderFloat(key)
		return ok && v > threshold
	}
}

// HeaderLessThan matches when the header holds a numeric value
// strictly less than threshold.
func HeaderLessThan(key string, threshold float64) Predicate {
	return func(env *contracts.Envelope) bool {
		v, ok := env.HeaderFloat(key)
		return ok && v < threshold
	}
}

// BodyContains matches when the body contains the substring.
func BodyContains(substr string) Predicate {
	return func(env *contracts.Envelope) bool {
		return strings.Contains(env.BodyString(), substr)
	}
}

// Not inverts a predicate.
func Not(p Predicate) Predicate {
	return func(env *contracts.Envelope) bool {
		return !p(env)
	}
}

type stepKind int

const (
	stepTransform stepKind = iota
	stepChoice
	stepDispatch
	stepWireTap
	stepClaimStore
	stepClaimRetrieve
	stepSink
)

func (k stepKind) String() string {
	switch k {
	case stepTransform:
		return "transform"
	case stepChoice:
		return "choice"
	case stepDispatch:
		return "dispatch"
	case stepWireTap:
		return "wireTap"
	case stepClaimStore:
		return "claimCheckStore"
	case stepClaimRetrieve:
		return "claimCheckRetrieve"
	case stepSink:
		return "toSink"
	default:
		return "unknown"
	}
}

// step is the tagged variant executed by the router's interpreter
// loop. Exactly the fields for its kind are set.
type step struct {
	kind         stepKind
	transform    TransformFunc
	branches     []Branch
	otherwise    *Flow
	stage        string
	sink         string
	ticketHeader string // claim retrieve: read ticket here instead of the body
}

// Branch pairs a predicate with the sub-flow executed when it is the
// first to match. Declaration order is evaluation order.
type Branch struct {
	When Predicate
	Then *Flow
}

// Choice describes a choice step: branches tried in order, with an
// optional Otherwise flow when none match. With no Otherwise the
// envelope passes through unchanged.
type Choice struct {
	Branches  []Branch
	Otherwise *Flow
}
