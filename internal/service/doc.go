// SPDX-License-Identifier: MPL-2.0

// Package service loads the serverless service definition that lists the
// functions to bundle.
//
// Only the parts of serverless.yml the bundler consumes are modelled: the
// provider stage, service-wide package patterns, and each function's handler
// and package settings. The custom block is carried through unchanged so that
// writing the service back keeps plugin settings intact.
package service
