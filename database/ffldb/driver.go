// Copyright (c) 2015-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ffldb

import (
	"fmt"
	"reflect"

	"github.com/btcnode/node/database"
)

func parseArgs(funcName string, args ...interface{}) (string, uint32, int, error) {
	if len(args) != 2 && len(args) != 3 {
		return "", 0, 0, fmt.Errorf("invalid arguments to %s: expected "+
			"database path, network, and optional cache size, got %d arguments",
			funcName, len(args))
	}
	dbPath, ok := args[0].(string)
	if !ok {
		return "", 0, 0, fmt.Errorf("first argument to %s is invalid: "+
			"expected database path string", funcName)
	}
	// The network argument is typically a named uint32 type (e.g.
	// wire.BitcoinNet), so inspect its underlying kind rather than asserting
	// a concrete type.
	rv := reflect.ValueOf(args[1])
	if rv.Kind() != reflect.Uint32 && rv.Kind() != reflect.Uint && rv.Kind() != reflect.Int32 && rv.Kind() != reflect.Int {
		return "", 0, 0, fmt.Errorf("second argument to %s is invalid: "+
			"expected network identifier", funcName)
	}
	var network uint32
	switch rv.Kind() {
	case reflect.Uint32, reflect.Uint:
		network = uint32(rv.Uint())
	default:
		network = uint32(rv.Int())
	}
	cacheMiB := 0
	if len(args) == 3 {
		cv := reflect.ValueOf(args[2])
		switch cv.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			cacheMiB = int(cv.Int())
		case reflect.Uint, reflect.Uint32, reflect.Uint64:
			cacheMiB = int(cv.Uint())
		default:
			return "", 0, 0, fmt.Errorf("third argument to %s is invalid: "+
				"expected cache size in MiB", funcName)
		}
	}
	return dbPath, network, cacheMiB, nil
}

func createDBDriver(args ...interface{}) (database.DB, error) {
	dbPath, network, cacheMiB, err := parseArgs("Create", args...)
	if err != nil {
		return nil, err
	}
	return openDB(dbPath, network, true, cacheMiB)
}

func openDBDriver(args ...interface{}) (database.DB, error) {
	dbPath, network, cacheMiB, err := parseArgs("Open", args...)
	if err != nil {
		return nil, err
	}
	return openDB(dbPath, network, false, cacheMiB)
}

func useLogger(logger database.Logger) {
	log = logger
}

func init() {
	driver := database.Driver{
		DbType:    dbType,
		Create:    createDBDriver,
		Open:      openDBDriver,
		UseLogger: useLogger,
	}
	if err := database.RegisterDriver(driver); err != nil {
		panic(fmt.Sprintf("failed to register database driver %q: %v", dbType, err))
	}
}
