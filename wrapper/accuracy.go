package wrapper

import "context"

// Accuracy controls how aggressively PreprocessSource normalizes its
// input before hashing. AccuracyDefault lets a strategy strip things like
// #line markers or embedded debug-line info that don't affect the compiled
// output but do affect the preprocessed text; AccuracyStrict hashes the
// preprocessed text byte-for-byte.
type Accuracy int

const (
	AccuracyDefault Accuracy = iota
	AccuracyStrict
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyStrict:
		return "strict"
	default:
		return "default"
	}
}

type accuracyContextKey struct{}

// WithAccuracy returns a context carrying acc, retrievable by a strategy's
// PreprocessSource hook via AccuracyFromContext.
func WithAccuracy(ctx context.Context, acc Accuracy) context.Context {
	return context.WithValue(ctx, accuracyContextKey{}, acc)
}

// AccuracyFromContext returns the Accuracy carried by ctx, defaulting to
// AccuracyDefault if none was set.
func AccuracyFromContext(ctx context.Context) Accuracy {
	if acc, ok := ctx.Value(accuracyContextKey{}).(Accuracy); ok {
		return acc
	}
	return AccuracyDefault
}
