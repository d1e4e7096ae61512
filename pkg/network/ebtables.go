package network

import (
	"os/exec"

	"github.com/coreemu/coreemu/internal/coreerr"
)

// ebtablesSetDefaultPolicy sets bridgeName's FORWARD chain default policy in
// the ebtables "broute" table-equivalent filter chain used for WLAN gating
// (§4.3). policy is "ACCEPT" or "DROP".
func ebtablesSetDefaultPolicy(bridgeName, policy string) error {
	cmd := exec.Command("ebtables", "-t", "filter", "-P", "FORWARD", policy)
	if out, err := cmd.CombinedOutput(); err != nil {
		return coreerr.NewKernel("ebtables-policy", bridgeName, errWithOutput(err, out))
	}
	return nil
}

// ebtablesAcceptPair inserts a rule that ACCEPTs frames between the two host
// MAC addresses, implementing one ordered-pair exception to the WLAN's
// default DROP policy (§4.3, §4.4).
func ebtablesAcceptPair(bridgeName, macA, macB string) error {
	cmd := exec.Command("ebtables", "-t", "filter", "-A", "FORWARD",
		"--logical-in", bridgeName,
		"-s", macA, "-d", macB,
		"-j", "ACCEPT")
	if out, err := cmd.CombinedOutput(); err != nil {
		return coreerr.NewKernel("ebtables-accept", bridgeName, errWithOutput(err, out))
	}
	return nil
}

// ebtablesDropPair removes the ACCEPT exception rule for the ordered pair
// (macA, macB), restoring the default DROP verdict for that direction.
func ebtablesDropPair(bridgeName, macA, macB string) error {
	cmd := exec.Command("ebtables", "-t", "filter", "-D", "FORWARD",
		"--logical-in", bridgeName,
		"-s", macA, "-d", macB,
		"-j", "ACCEPT")
	if out, err := cmd.CombinedOutput(); err != nil {
		return coreerr.NewKernel("ebtables-drop", bridgeName, errWithOutput(err, out))
	}
	return nil
}

// ebtablesFlush removes exactly the ACCEPT rules this network installed via
// ebtablesAcceptPair, used during Teardown so no rule outlives the network
// without disturbing any other live session's or network's rules sharing the
// same global FORWARD chain (§5 shared-resource discipline, §9 cross-session
// isolation).
func ebtablesFlush(bridgeName string, pairs map[string][2]string) {
	for _, macs := range pairs {
		ebtablesDropPair(bridgeName, macs[0], macs[1])
		ebtablesDropPair(bridgeName, macs[1], macs[0])
	}
}

func errWithOutput(err error, out []byte) error {
	if len(out) == 0 {
		return err
	}
	return &outputError{err: err, out: string(out)}
}

type outputError struct {
	err error
	out string
}

func (e *outputError) Error() string { return e.err.Error() + ": " + e.out }
func (e *outputError) Unwrap() error { return e.err }
