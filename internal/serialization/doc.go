// Package serialization reads and writes safetensors files.
//
//	Format Structure:
//	  [8 bytes: Header Size (uint64 LE)]
//	  [Header: JSON, tensor name -> {dtype, shape, data_offsets}]
//	  [Tensor data: raw bytes, little-endian]
//
// Data offsets in the header are relative to the start of the data section.
// The "__metadata__" header key carries free-form string metadata and is not
// a tensor.
//
// Two readers are provided: Reader performs buffered file reads, MmapReader
// maps the file and hands out zero-copy slices into the mapping. Use
// MmapReader when loading large checkpoints shard by shard.
package serialization
