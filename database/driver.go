// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import "fmt"

var drivers = make(map[string]*Driver)

// RegisterDriver registers a backend, by type string, for later use by
// Create/Open. A driver's init() calls this; for example
// database/ffldb registers itself as "ffldb". Registering a type string
// twice is a programmer error.
func RegisterDriver(driver Driver) error {
	if _, exists := drivers[driver.DbType]; exists {
		return makeError(ErrDbTypeRegistered, fmt.Sprintf(
			"driver %q is already registered", driver.DbType), nil)
	}
	drivers[driver.DbType] = &driver
	return nil
}

// SupportedDrivers returns a slice of the currently registered database
// driver type strings.
func SupportedDrivers() []string {
	supported := make([]string, 0, len(drivers))
	for dbType := range drivers {
		supported = append(supported, dbType)
	}
	return supported
}

// UseLogger hands logger to the driver registered under dbType, if that
// driver accepts one.
func UseLogger(dbType string, logger Logger) {
	if driver, exists := drivers[dbType]; exists && driver.UseLogger != nil {
		driver.UseLogger(logger)
	}
}

// Create creates and opens a new database for the given type, forwarding
// args unmodified to the driver's Create function.
func Create(dbType string, args ...interface{}) (DB, error) {
	driver, exists := drivers[dbType]
	if !exists {
		return nil, makeError(ErrDbUnknownType, fmt.Sprintf(
			"driver %q is not registered", dbType), nil)
	}
	return driver.Create(args...)
}

// Open opens an existing database for the given type, forwarding args
// unmodified to the driver's Open function.
func Open(dbType string, args ...interface{}) (DB, error) {
	driver, exists := drivers[dbType]
	if !exists {
		return nil, makeError(ErrDbUnknownType, fmt.Sprintf(
			"driver %q is not registered", dbType), nil)
	}
	return driver.Open(args...)
}
