package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPolicyRejected reports an action the policy gate refused. The
// rejection is terminal; the action never reaches a runner.
var ErrPolicyRejected = errors.New("action rejected by policy")

// destructiveVerbs are the systemctl operations that take a service
// down. Protection triggers on a verb and a protected unit appearing in
// the same command.
var destructiveVerbs = map[string]bool{
	"stop":    true,
	"disable": true,
	"mask":    true,
	"kill":    true,
}

// shellMetachars are rejected outright. Commands run without a shell, so
// these characters do nothing useful and only show up in injection
// attempts or malformed reasoner output.
const shellMetachars = ";|&$`><"

// checkPolicy validates every command of an action against the protected
// service set. A nil return means the action may proceed to the gate.
func checkPolicy(commands []string, protected []string) error {
	for _, command := range commands {
		if i := strings.IndexAny(command, shellMetachars); i >= 0 {
			return fmt.Errorf("%w: shell metacharacter %q in %q",
				ErrPolicyRejected, command[i], command)
		}

		verb, unit := scanCommand(command, protected)
		if verb != "" && unit != "" {
			return fmt.Errorf("%w: %q would %s protected service %s",
				ErrPolicyRejected, command, verb, unit)
		}
	}
	return nil
}

// scanCommand walks a command word-wise, reporting the first destructive
// verb and the first protected unit it mentions. Matching is word-wise
// rather than positional so forms like "systemctl kill --signal=9
// sshd.service" are still caught.
func scanCommand(command string, protected []string) (verb, unit string) {
	for _, word := range strings.Fields(command) {
		normalized := normalizeWord(word)
		if verb == "" && destructiveVerbs[strings.ToLower(normalized)] {
			verb = strings.ToLower(normalized)
		}
		if unit == "" {
			for _, svc := range protected {
				if normalized == svc || normalized == strings.TrimSuffix(svc, ".service") {
					unit = svc
					break
				}
			}
		}
	}
	return verb, unit
}

// normalizeWord strips quoting and the implied .service suffix so unit
// spellings compare equal.
func normalizeWord(word string) string {
	word = strings.Trim(word, `"'`)
	return strings.TrimSuffix(word, ".service")
}
