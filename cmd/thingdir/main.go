// Package main is the thingdir directory node.
//
// A node serves the Thing Descriptions registered at its location and
// cooperates with its parent, children and master to answer requests that
// target any location of the tree.
//
// Usage:
//
//	thingdir serve --config level2.yaml
//	thingdir check-config --config level2.yaml
//
// THINGDIR_NAME, THINGDIR_LISTEN and THINGDIR_STORE_PATH override the
// corresponding config file values.
package main

import "log"

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = log.Fatalf

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logFatal("thingdir: %v", err)
	}
}
