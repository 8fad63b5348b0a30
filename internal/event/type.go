package event

// Type is the application-defined event type tag, packed as major/minor
// components the way Linux device numbers are: the upper 16 bits name a
// broad category (major), the lower 16 bits a specific variant within it
// (minor). MajorType(t) | MinorType(t) == t always holds, which is what
// lets a receiver dispatch on major alone while still recovering the
// full type when it needs the variant.
type Type uint32

// MakeType packs a major/minor pair into a single Type.
func MakeType(major, minor uint16) Type {
	return Type(uint32(major)<<16 | uint32(minor))
}

// MajorType extracts the upper 16 bits of an event type.
func MajorType(t Type) Type {
	return t &^ 0xffff
}

// MinorType extracts the lower 16 bits of an event type.
func MinorType(t Type) Type {
	return t & 0xffff
}
