package main

import "github.com/datalode/ledgersync/app/cmd"

func main() {
	cmd.Execute()
}

// @title Ledgersync API
// @version 0.0.1
// @description Ledger reconciliation and verification jobs for the dataset marketplace

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @securityDefinitions.basic BasicAuth
// @BasePath /
