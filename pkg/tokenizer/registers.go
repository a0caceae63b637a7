package tokenizer

// x86Registers covers the 8/16/32/64-bit general purpose, segment, control,
// debug, x87, and SSE/AVX register names used across x86/x86-64 dialects.
var x86Registers = map[string]struct{}{
	"ah": {}, "al": {}, "ax": {}, "bh": {}, "bl": {}, "bp": {}, "bx": {},
	"ch": {}, "cl": {}, "cr0": {}, "cr2": {}, "cr3": {}, "cr4": {}, "cs": {},
	"cx": {}, "dh": {}, "di": {}, "dl": {}, "dr0": {}, "dr1": {}, "dr2": {},
	"dr3": {}, "dr6": {}, "dr7": {}, "ds": {}, "dx": {}, "eax": {}, "ebp": {},
	"ebx": {}, "ecx": {}, "edi": {}, "edx": {}, "eflags": {}, "eip": {},
	"es": {}, "esi": {}, "esp": {}, "fs": {}, "gs": {}, "rax": {}, "rbp": {},
	"rbx": {}, "rcx": {}, "rdi": {}, "rdx": {}, "rip": {}, "rsi": {}, "rsp": {},
	"si": {}, "sp": {}, "ss": {}, "st0": {}, "st1": {}, "st2": {}, "st3": {},
	"st4": {}, "st5": {}, "st6": {}, "st7": {},
	"xmm0": {}, "xmm1": {}, "xmm2": {}, "xmm3": {}, "xmm4": {}, "xmm5": {},
	"xmm6": {}, "xmm7": {},
	"ymm0": {}, "ymm1": {}, "ymm2": {}, "ymm3": {}, "ymm4": {}, "ymm5": {},
	"ymm6": {}, "ymm7": {},
	"r8": {}, "r9": {}, "r10": {}, "r11": {}, "r12": {}, "r13": {}, "r14": {}, "r15": {},
	"r8d": {}, "r9d": {}, "r10d": {}, "r11d": {}, "r12d": {}, "r13d": {}, "r14d": {}, "r15d": {},
	"r8w": {}, "r9w": {}, "r10w": {}, "r11w": {}, "r12w": {}, "r13w": {}, "r14w": {}, "r15w": {},
	"r8b": {}, "r9b": {}, "r10b": {}, "r11b": {}, "r12b": {}, "r13b": {}, "r14b": {}, "r15b": {},
}

// armRegisters covers AArch32 general-purpose and AArch64 general-purpose
// and NEON/FP register names.
var armRegisters = func() map[string]struct{} {
	m := map[string]struct{}{
		"sp": {}, "lr": {}, "pc": {}, "cpsr": {}, "spsr": {}, "fpscr": {},
		"xzr": {}, "wzr": {},
	}
	addNumbered(m, "r", 0, 15)
	addNumbered(m, "x", 0, 30)
	addNumbered(m, "w", 0, 30)
	addNumbered(m, "d", 0, 15)
	addNumbered(m, "q", 0, 15)
	addNumbered(m, "s", 0, 15)
	return m
}()

// mipsRegisters covers the numeric ($0-$31) and ABI register names.
var mipsRegisters = func() map[string]struct{} {
	m := map[string]struct{}{
		"$zero": {}, "$at": {}, "$v0": {}, "$v1": {},
		"$a0": {}, "$a1": {}, "$a2": {}, "$a3": {},
		"$t0": {}, "$t1": {}, "$t2": {}, "$t3": {}, "$t4": {}, "$t5": {}, "$t6": {}, "$t7": {}, "$t8": {}, "$t9": {},
		"$s0": {}, "$s1": {}, "$s2": {}, "$s3": {}, "$s4": {}, "$s5": {}, "$s6": {}, "$s7": {},
		"$k0": {}, "$k1": {}, "$gp": {}, "$sp": {}, "$fp": {}, "$ra": {}, "$hi": {}, "$lo": {},
	}
	addDollarNumbered(m, "$", 0, 31)
	addDollarNumbered(m, "$f", 0, 31)
	return m
}()

// riscvRegisters covers the x-name and ABI-name integer and floating-point
// register sets.
var riscvRegisters = func() map[string]struct{} {
	m := map[string]struct{}{
		"zero": {}, "ra": {}, "gp": {}, "tp": {},
	}
	addNumbered(m, "x", 0, 31)
	addNumbered(m, "t", 0, 6)
	addNumbered(m, "s", 0, 11)
	addNumbered(m, "a", 0, 7)
	addNumbered(m, "f", 0, 31)
	addNumbered(m, "ft", 0, 11)
	addNumbered(m, "fs", 0, 11)
	addNumbered(m, "fa", 0, 7)
	return m
}()

func addNumbered(m map[string]struct{}, prefix string, from, to int) {
	for i := from; i <= to; i++ {
		m[prefix+itoa(i)] = struct{}{}
	}
}

func addDollarNumbered(m map[string]struct{}, prefix string, from, to int) {
	for i := from; i <= to; i++ {
		m[prefix+itoa(i)] = struct{}{}
	}
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [8]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// allRegisters is the union of every architecture's register set, used so
// register renaming never affects similarity scoring across architectures.
var allRegisters = unionRegisterSets(x86Registers, armRegisters, mipsRegisters, riscvRegisters)

func unionRegisterSets(sets ...map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for k := range s {
			out[k] = struct{}{}
		}
	}
	return out
}

// isRegister reports whether lowered (already lowercase) names a register
// in any supported architecture.
func isRegister(lowered string) bool {
	_, ok := allRegisters[lowered]
	return ok
}

// memorySizeHints are the individual tokens that together spell out a
// memory operand size (e.g. "dword ptr"); each word is generalized on its
// own, matching how the reference implementation tokenizes them.
var memorySizeHints = map[string]struct{}{
	"dword": {}, "word": {}, "byte": {}, "qword": {}, "ptr": {},
}

func isMemorySizeHint(lowered string) bool {
	_, ok := memorySizeHints[lowered]
	return ok
}
