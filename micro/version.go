package micro

// Version packing matches the module ABI: major in the high byte, minor in
// the low byte. Host and plugins compare these across the loader boundary.

// MakeVersion packs a major/minor pair into a single version int.
func MakeVersion(major, minor int) int { return major<<8 | minor }

// VersionMajor extracts the major part of a packed version.
func VersionMajor(version int) int { return version >> 8 }

// VersionMinor extracts the minor part of a packed version.
func VersionMinor(version int) int { return version & 0xff }
