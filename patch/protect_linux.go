package patch

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// protectionOf reads the protection of the mapping holding page from /proc/self/maps.
func protectionOf(page uintptr, _ Kind) (int, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return 0, err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) < 2 {
			continue
		}
		lo, hi, ok := strings.Cut(fields[0], "-")
		if !ok {
			continue
		}
		start, err1 := strconv.ParseUint(lo, 16, 64)
		end, err2 := strconv.ParseUint(hi, 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if uint64(page) >= start && uint64(page) < end {
			return parsePerms(fields[1]), nil
		}
	}
	if err = s.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("page %#x not mapped: %w", page, unix.ENOMEM)
}

func parsePerms(perms string) (prot int) {
	for i, c := range perms {
		switch {
		case i == 0 && c == 'r':
			prot |= unix.PROT_READ
		case i == 1 && c == 'w':
			prot |= unix.PROT_WRITE
		case i == 2 && c == 'x':
			prot |= unix.PROT_EXEC
		}
	}
	return
}
