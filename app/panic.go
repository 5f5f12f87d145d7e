package app

import (
	"fmt"
	"strings"

	"coopos/console"
	"coopos/machine"
)

// maxStackLines bounds how many stack lines are printed.
const maxStackLines = 12

func installPanicHandler(m *machine.Machine, con *console.Console) {
	m.SetPanicHandler(func(info machine.PanicInfo) {
		con.Clear()
		fmt.Fprintf(con, "coopos panic: strand=%s at %08x\n", info.Strand, info.Addr)
		fmt.Fprintf(con, "panic: %v\n", info.Value)
		if len(info.Stack) == 0 {
			fmt.Fprint(con, "stack: unavailable\n")
			return
		}

		fmt.Fprint(con, "stack:\n")
		n := 0
		for _, line := range strings.Split(string(info.Stack), "\n") {
			if line == "" {
				continue
			}
			if n == maxStackLines {
				fmt.Fprint(con, "...\n")
				return
			}
			fmt.Fprintln(con, strings.TrimSpace(line))
			n++
		}
	})
}
