package chatddb

import (
	chatcli "github.com/streamhive/chat-relay/chat-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	DAXRegion  string
}

var DAXClusterFlag = chatcli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var DAXRegionFlag = &cli.StringFlag{
	Name:        "dax-region",
	Usage:       "The region of the DAX cluster",
	Value:       "us-east-1",
	EnvVars:     []string{"DAX_REGION"},
	Destination: &DDBOpts.DAXRegion,
}

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	DAXRegionFlag,
}
