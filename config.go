package lazyflow

import (
	"github.com/go-logr/logr"
)

// Option is a function that configures a Graph
type Option func(*Graph)

// WithLogr sets the logger for the graph and every request it executes
var WithLogr = func(log logr.Logger) Option {
	return func(g *Graph) {
		g.log = log
	}
}

// WithWorkers sets the number of concurrently executing operator bodies.
// Requests suspended in Wait do not count against it.
var WithWorkers = func(n int) Option {
	return func(g *Graph) {
		g.workers = n
	}
}

// WithInterceptors appends interceptors around every operator Execute.
// The first interceptor is the outermost.
var WithInterceptors = func(interceptors ...ExecuteInterceptor) Option {
	return func(g *Graph) {
		g.interceptors = append(g.interceptors, interceptors...)
	}
}

// WithMaxDepth limits the length of the longest operator chain. Connections
// exceeding it are rejected with a ConfigurationError.
var WithMaxDepth = func(depth int) Option {
	return func(g *Graph) {
		g.maxDepth = depth
	}
}
