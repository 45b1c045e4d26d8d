// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/slsbundle/cmd/slsbundle"

func main() {
	cmd.Execute()
}
