// Package normalisers provides driven.Normaliser implementations that turn
// formatted files into plain text before embedding.
//
// A Registry picks the normaliser for a file by extension; files with no
// registered normaliser are embedded as-is.
package normalisers
