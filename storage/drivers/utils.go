package drivers

import (
	"strings"
)

// freeLUN returns the lowest unused LUN number given the set of numbers
// already in use. LUN 0 is never handed out, several initiator platforms
// reserve it for controller devices.
func freeLUN(used []int) int {
	taken := map[int]bool{0: true}
	for _, lun := range used {
		taken[lun] = true
	}

	for lun := 1; ; lun++ {
		if !taken[lun] {
			return lun
		}
	}
}

// colonizeWWPN normalizes a Fibre Channel port name to the lower case colon
// separated form storage arrays expect.
func colonizeWWPN(wwpn string) string {
	wwpn = strings.ToLower(strings.ReplaceAll(wwpn, ":", ""))

	parts := make([]string, 0, len(wwpn)/2)
	for i := 0; i+2 <= len(wwpn); i += 2 {
		parts = append(parts, wwpn[i:i+2])
	}

	return strings.Join(parts, ":")
}

// compactWWPN strips the separators off a Fibre Channel port name.
func compactWWPN(wwpn string) string {
	return strings.ToLower(strings.ReplaceAll(wwpn, ":", ""))
}

// portWWN reduces a combined node+port WWN to its 16 hex digit port half,
// the identifier fabric zoning operates on.
func portWWN(wwn string) string {
	compact := compactWWPN(wwn)
	if len(compact) <= 16 {
		return compact
	}

	return compact[len(compact)-16:]
}
