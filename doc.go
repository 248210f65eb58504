// Package structkit reconstructs the composite data types of compiled
// native programs from their debug metadata, and builds byte-exact
// instances of those types for injection into a running process.
//
// APIs are separated into subpackages, and documented accordingly:
// typegraph turns type descriptors into a cycle-safe graph, object
// provides a mutable runtime value model on top of it, packer lays an
// object graph out in memory and relocates its pointers, and dwarfcat
// reads type descriptors from an ELF binary's DWARF info.
//
// For scripting convenience, "OrExit" functions and methods are provided.
// Any errors encountered by these functions are treated as fatal. In such
// cases, an exit handler function is invoked.
package structkit
