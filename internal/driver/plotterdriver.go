// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver provides an implementation of a ProtocolDriver interface.
package driver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/interfaces"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"
)

const DefaultConfigPath = "./res/configuration.yaml"

// asyncSendTimeout bounds each AsyncValues push made from the reader goroutine.
const asyncSendTimeout = time.Second

type PlotterDriver struct {
	lc       logger.LoggingClient
	asyncCh  chan<- *dsModels.AsyncValues
	locker   sync.Mutex
	sdk      interfaces.DeviceServiceSDK
	pipeline *Pipeline

	// asyncTimeout overrides asyncSendTimeout when positive
	asyncTimeout time.Duration

	devMu   sync.Mutex
	devices map[string]struct{}
}

var once sync.Once
var driver *PlotterDriver

func NewPlotterDeviceDriver() interfaces.ProtocolDriver {
	once.Do(func() {
		driver = new(PlotterDriver)
	})
	return driver
}

func (d *PlotterDriver) Initialize(sdk interfaces.DeviceServiceSDK) error {
	d.sdk = sdk
	d.lc = sdk.LoggingClient()
	d.asyncCh = sdk.AsyncValuesChannel()

	p, err := InitializePipeline(DefaultConfigPath, d.lc, d.reportFailure)
	if err != nil {
		return fmt.Errorf("初始化采集链路失败: %w", err)
	}
	d.pipeline = p
	return nil
}

func (d *PlotterDriver) Start() error {
	if err := d.pipeline.Start(); err != nil {
		return err
	}
	d.lc.Infof("串口采集已就绪: %s", d.pipeline.Port.Name())
	return nil
}

func (d *PlotterDriver) HandleReadCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest) ([]*dsModels.CommandValue, error) {
	d.locker.Lock()
	defer d.locker.Unlock()

	res := make([]*dsModels.CommandValue, 0, len(reqs))
	for _, req := range reqs {
		cv, err := readResource(d.pipeline, req.DeviceResourceName)
		if err != nil {
			return nil, fmt.Errorf("读取设备 %s 资源 %s 失败: %w", deviceName, req.DeviceResourceName, err)
		}
		res = append(res, cv)
		d.lc.Debugf("读取值: %s.%s", deviceName, req.DeviceResourceName)
	}
	return res, nil
}

func (d *PlotterDriver) HandleWriteCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest,
	params []*dsModels.CommandValue) error {
	d.locker.Lock()
	defer d.locker.Unlock()

	if len(reqs) != len(params) {
		return fmt.Errorf("%d write requests but %d values", len(reqs), len(params))
	}
	for i, req := range reqs {
		if err := writeResource(d.pipeline, req.DeviceResourceName, params[i]); err != nil {
			return fmt.Errorf("写入设备 %s 资源 %s 失败: %w", deviceName, req.DeviceResourceName, err)
		}
		d.lc.Infof("写入值: %s.%s = %v", deviceName, req.DeviceResourceName, params[i].Value)
	}
	return nil
}

func (d *PlotterDriver) Stop(force bool) error {
	d.lc.Info("PlotterDriver.Stop: stopping acquisition and joining the serial reader")
	if d.pipeline == nil {
		return nil
	}
	return d.pipeline.Shutdown()
}

func (d *PlotterDriver) AddDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	if d.devices == nil {
		d.devices = make(map[string]struct{})
	}
	d.devices[deviceName] = struct{}{}
	d.lc.Debugf("a new Device is added: %s", deviceName)
	return nil
}

func (d *PlotterDriver) UpdateDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("Device %s is updated", deviceName)
	return nil
}

func (d *PlotterDriver) RemoveDevice(deviceName string, protocols map[string]models.ProtocolProperties) error {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	delete(d.devices, deviceName)
	d.lc.Debugf("Device %s is removed", deviceName)
	return nil
}

func (d *PlotterDriver) Discover() error {
	return fmt.Errorf("driver's Discover function isn't implemented")
}

func (d *PlotterDriver) ValidateDevice(device models.Device) error {
	d.lc.Debug("Driver's ValidateDevice function isn't implemented")
	return nil
}

func (d *PlotterDriver) deviceNames() []string {
	d.devMu.Lock()
	defer d.devMu.Unlock()
	names := make([]string, 0, len(d.devices))
	for n := range d.devices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// reportFailure pushes the terminated link state to every known device so
// core-data sees the outage without waiting for a read.
func (d *PlotterDriver) reportFailure(err error) {
	d.lc.Errorf("串口链路故障: %v", err)
	if d.asyncCh == nil {
		return
	}
	for _, name := range d.deviceNames() {
		cv, cerr := readResource(d.pipeline, ResourceLinkState)
		if cerr != nil {
			d.lc.Errorf("build %s value: %v", ResourceLinkState, cerr)
			return
		}
		av := &dsModels.AsyncValues{
			DeviceName:    name,
			SourceName:    ResourceLinkState,
			CommandValues: []*dsModels.CommandValue{cv},
		}
		if !d.pushAsync(av) {
			d.lc.Warnf("async channel not draining, %s for %s dropped", ResourceLinkState, name)
			return
		}
	}
}

// pushAsync sends av unless the SDK has stopped draining the channel.
func (d *PlotterDriver) pushAsync(av *dsModels.AsyncValues) bool {
	timeout := d.asyncTimeout
	if timeout <= 0 {
		timeout = asyncSendTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case d.asyncCh <- av:
		return true
	case <-t.C:
		return false
	}
}
