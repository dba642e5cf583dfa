package system

import (
	"encoding/binary"

	"dtemu/config"
)

/*
	Minimal bootstrap code, used when no image is given: print a banner on
	the console, then halt the machine through the console HALT register.
*/

// Banner printed by the built in boot program.
func Banner(arch string) string {
	return "dtemu " + arch + "\n"
}

// bootcode returns the boot program for arch, one instruction per word.
func bootcode(arch string) []uint32 {
	var (
		base   []uint32
		putc   func(c byte) []uint32
		halt   []uint32
		consHi = uint32(ConsoleBase >> 16)
	)

	switch arch {
	case config.MIPS:
		base = []uint32{
			0x3c080000 | (0xa000 + consHi), /* lui $t0, kseg1 cons */
		}
		putc = func(c byte) []uint32 {
			return []uint32{
				0x34090000 | uint32(c), /* ori $t1, $zero, c */
				0xa1090000,             /* sb $t1, 0($t0) */
			}
		}
		halt = []uint32{
			0xa1000010, /* sb $zero, 0x10($t0) */
		}

	case config.ARM:
		base = []uint32{
			0xe3a00201, /* mov r0, #0x10000000 */
		}
		putc = func(c byte) []uint32 {
			return []uint32{
				0xe3a01000 | uint32(c), /* mov r1, #c */
				0xe5c01000,             /* strb r1, [r0] */
			}
		}
		halt = []uint32{
			0xe5c01010, /* strb r1, [r0, #0x10] */
		}

	case config.PPC:
		base = []uint32{
			0x3c600000 | consHi, /* lis r3, cons */
		}
		putc = func(c byte) []uint32 {
			return []uint32{
				0x38800000 | uint32(c), /* li r4, c */
				0x98830000,             /* stb r4, 0(r3) */
			}
		}
		halt = []uint32{
			0x98830010, /* stb r4, 0x10(r3) */
		}

	default:
		return nil
	}

	code := base
	for _, c := range []byte(Banner(arch)) {
		code = append(code, putc(c)...)
	}
	return append(code, halt...)
}

// encode lays out instruction words in guest byte order.
func encode(words []uint32, order binary.ByteOrder) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		order.PutUint32(b[4*i:], w)
	}
	return b
}
