// File: cmd/hioload-httpd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-httpd serves a document root over HTTP/1.1 from a single epoll loop.

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
