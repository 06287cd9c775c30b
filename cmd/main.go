// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2018-2022 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/edgexfoundry/device-sdk-go/v4/pkg/startup"

	device_plotter "github.com/linjuya-lu/device_plotter_go"
	"github.com/linjuya-lu/device_plotter_go/internal/driver"
)

const (
	serviceName string = "device-plotter"
)

func main() {
	d := driver.NewPlotterDeviceDriver()
	startup.Bootstrap(serviceName, device_plotter.Version, d)
}
