// Command kambohive runs a task host or a worker.
package main

import "github.com/hscHeric/kambo-hive-lib/cmd"

func main() {
	cmd.Execute()
}
