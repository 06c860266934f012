package metrics

import (
	"errors"
	"io"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	"github.com/uber-go/tally"
	tallystatsd "github.com/uber-go/tally/statsd"
)

const (
	_flushInterval = 100 * time.Millisecond
	_flushBytes    = 512
	_sampleRate    = 1.0
)

func newStatsdScope(config Config, cluster string) (tally.Scope, io.Closer, error) {
	if config.Statsd.HostPort == "" {
		return nil, nil, errors.New("statsd host_port required")
	}
	if config.Statsd.Prefix == "" {
		return nil, nil, errors.New("statsd prefix required")
	}
	prefix := config.Statsd.Prefix
	if cluster != "" {
		prefix = prefix + "." + cluster
	}
	statter, err := statsd.NewBufferedClient(
		config.Statsd.HostPort, prefix, _flushInterval, _flushBytes)
	if err != nil {
		return nil, nil, err
	}
	reporter := tallystatsd.NewReporter(statter, tallystatsd.Options{
		SampleRate: _sampleRate,
	})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Reporter: reporter,
	}, time.Second)
	return scope, closer, nil
}
