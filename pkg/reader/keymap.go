package reader

const (
	// HID keyboard usage ids.
	hidKeyEnter       = 0x28
	hidKeyTab         = 0x2B
	hidKeypadEnter    = 0x58
	hidModifierShift  = 0x22 // left or right shift
	hidKeyLetterFirst = 0x04 // 'a'
	hidKeyLetterLast  = 0x1D // 'z'
	hidKeyDigitFirst  = 0x1E // '1'
	hidKeyDigitLast   = 0x27 // '0'
)

// symbolKeys maps the remaining printable usage ids to their plain and
// shifted characters (US layout, which wedge-mode scanners emit).
var symbolKeys = map[byte][2]byte{
	0x2C: {' ', ' '},
	0x2D: {'-', '_'},
	0x2E: {'=', '+'},
	0x2F: {'[', '{'},
	0x30: {']', '}'},
	0x31: {'\\', '|'},
	0x33: {';', ':'},
	0x34: {'\'', '"'},
	0x35: {'`', '~'},
	0x36: {',', '<'},
	0x37: {'.', '>'},
	0x38: {'/', '?'},
	0x54: {'/', '/'},
	0x55: {'*', '*'},
	0x56: {'-', '-'},
	0x57: {'+', '+'},
	0x59: {'1', '1'},
	0x5A: {'2', '2'},
	0x5B: {'3', '3'},
	0x5C: {'4', '4'},
	0x5D: {'5', '5'},
	0x5E: {'6', '6'},
	0x5F: {'7', '7'},
	0x60: {'8', '8'},
	0x61: {'9', '9'},
	0x62: {'0', '0'},
	0x63: {'.', '.'},
}

// isTerminatorKey reports whether the usage id ends a scan.
func isTerminatorKey(keyCode byte) bool {
	return keyCode == hidKeyEnter || keyCode == hidKeypadEnter || keyCode == hidKeyTab
}

// keyCodeToChar converts a USB HID keyboard usage id to its ASCII
// character, honoring the shift modifier. Unmapped keys yield 0.
func keyCodeToChar(keyCode, modifier byte) byte {
	shifted := (modifier & hidModifierShift) != 0

	if keyCode >= hidKeyLetterFirst && keyCode <= hidKeyLetterLast {
		if shifted {
			return 'A' + keyCode - hidKeyLetterFirst
		}
		return 'a' + keyCode - hidKeyLetterFirst
	}

	if keyCode >= hidKeyDigitFirst && keyCode <= hidKeyDigitLast {
		if shifted {
			return "!@#$%^&*()"[keyCode-hidKeyDigitFirst]
		}
		if keyCode == hidKeyDigitLast {
			return '0'
		}
		return '1' + keyCode - hidKeyDigitFirst
	}

	if chars, ok := symbolKeys[keyCode]; ok {
		if shifted {
			return chars[1]
		}
		return chars[0]
	}

	return 0
}
