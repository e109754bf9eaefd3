// Command cincan-registry lists CinCan tools, reconciles their versions
// against upstream sources and serves the resulting report over HTTP.
package main

import (
	"flag"

	"github.com/golang/glog"
)

func main() {
	// glog wants flag.Parse before first use.
	_ = flag.Set("logtostderr", "true")
	flag.Parse()

	if err := rootCmd.Execute(); err != nil {
		glog.Exitf("%v", err)
	}
}
