package driver

import (
	"fmt"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
)

// Device resources served by the plotter profile.
const (
	ResourceTimestamps  = "Timestamps"
	ResourceValues      = "Values"
	ResourceLatestValue = "LatestValue"
	ResourceLinkState   = "LinkState"
	ResourceAcquiring   = "Acquiring"
	ResourceClear       = "Clear"
	ResourceSampleCount = "SampleCount"
	ResourceMalformed   = "MalformedCount"
)

// readResource 把链路当前状态封装成 CommandValue 上报
func readResource(p *Pipeline, name string) (*models.CommandValue, error) {
	var (
		cv  *models.CommandValue
		err error
	)
	switch name {
	case ResourceTimestamps:
		snap := p.Session.Snapshot()
		cv, err = models.NewCommandValue(name, common.ValueTypeFloat64Array, snap.Timestamps)
	case ResourceValues:
		snap := p.Session.Snapshot()
		cv, err = models.NewCommandValue(name, common.ValueTypeFloat64Array, snap.Values)
	case ResourceLatestValue:
		_, v, _ := p.Session.Snapshot().Newest()
		cv, err = models.NewCommandValue(name, common.ValueTypeFloat64, v)
	case ResourceLinkState:
		cv, err = models.NewCommandValue(name, common.ValueTypeString, p.Session.LinkState().String())
	case ResourceAcquiring:
		cv, err = models.NewCommandValue(name, common.ValueTypeBool, p.Session.Started())
	case ResourceSampleCount:
		cv, err = models.NewCommandValue(name, common.ValueTypeUint64, p.Reader.Stats().Samples)
	case ResourceMalformed:
		cv, err = models.NewCommandValue(name, common.ValueTypeUint64, p.Reader.Stats().Malformed)
	default:
		return nil, fmt.Errorf("unknown resource %s", name)
	}
	if err != nil {
		return nil, fmt.Errorf("creating CommandValue: %w", err)
	}
	return cv, nil
}

// writeResource 接收上层下发的 CommandValue 并切换采集状态
func writeResource(p *Pipeline, name string, param *models.CommandValue) error {
	switch name {
	case ResourceAcquiring:
		on, err := param.BoolValue()
		if err != nil {
			return fmt.Errorf("invalid bool write for %s: %w", name, err)
		}
		if on {
			return p.Session.Start()
		}
		p.Session.Stop()
		return nil
	case ResourceClear:
		reset, err := param.BoolValue()
		if err != nil {
			return fmt.Errorf("invalid bool write for %s: %w", name, err)
		}
		if reset {
			p.Session.Clear()
		}
		return nil
	default:
		return fmt.Errorf("resource %s is read-only or unknown", name)
	}
}
