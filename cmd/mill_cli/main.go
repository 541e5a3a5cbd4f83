// mill_cli is an interactive playground for the STM engine: define named
// transactional variables, read and update them atomically, and watch a
// variable block in retry until another session writes it.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/millvm/mill/core/stm"
	"github.com/millvm/mill/pkg/logger"
)

const helpText = `Commands:
  def <name> <value>     define a variable (int or string value)
  get <name>             read a variable's committed value
  set <name> <value>     atomically overwrite a variable
  incr <name> [delta]    atomically add delta (default 1) to an int variable
  list                   list all variables with a consistent snapshot
  help                   show this help
  exit                   quit`

func main() {
	log := logger.Default()
	defer log.Sync()

	eng := stm.New(log, nil)
	reg := stm.NewRegistry(eng)

	rl, err := readline.New("mill> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mill_cli: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("mill STM playground. Type 'help' for commands.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "help":
			fmt.Println(helpText)
		case "exit", "quit":
			return
		case "def":
			if len(fields) != 3 {
				fmt.Println("usage: def <name> <value>")
				continue
			}
			reg.Define(fields[1], parseValue(fields[2]))
			fmt.Printf("defined %s\n", fields[1])
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <name>")
				continue
			}
			v, ok := reg.Lookup(fields[1])
			if !ok {
				fmt.Printf("no such variable: %s\n", fields[1])
				continue
			}
			fmt.Printf("%v\n", eng.ReadCommitted(v))
		case "set":
			if len(fields) != 3 {
				fmt.Println("usage: set <name> <value>")
				continue
			}
			v, ok := reg.Lookup(fields[1])
			if !ok {
				fmt.Printf("no such variable: %s\n", fields[1])
				continue
			}
			val := parseValue(fields[2])
			if err := eng.Atomically(func(tx *stm.Txn) error {
				tx.Write(v, val)
				return nil
			}); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "incr":
			if len(fields) < 2 || len(fields) > 3 {
				fmt.Println("usage: incr <name> [delta]")
				continue
			}
			v, ok := reg.Lookup(fields[1])
			if !ok {
				fmt.Printf("no such variable: %s\n", fields[1])
				continue
			}
			delta := 1
			if len(fields) == 3 {
				d, err := strconv.Atoi(fields[2])
				if err != nil {
					fmt.Printf("bad delta: %s\n", fields[2])
					continue
				}
				delta = d
			}
			err := eng.Atomically(func(tx *stm.Txn) error {
				n, ok := tx.Read(v).(int)
				if !ok {
					return fmt.Errorf("%s does not hold an int", fields[1])
				}
				tx.Write(v, n+delta)
				return nil
			})
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("%v\n", eng.ReadCommitted(v))
		case "list":
			snap, err := reg.Snapshot()
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			reg.Range(func(name string, _ *stm.Var) bool {
				fmt.Printf("%s = %v\n", name, snap[name])
				return true
			})
		default:
			fmt.Printf("unknown command: %s (try 'help')\n", fields[0])
		}
	}
}

// parseValue treats the token as an int when possible, a string otherwise.
func parseValue(token string) any {
	if n, err := strconv.Atoi(token); err == nil {
		return n
	}
	return token
}
