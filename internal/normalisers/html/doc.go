// Package html provides a Normaliser for HTML files. It keeps readable
// text, dropping scripts, styles and markup, and decodes entities.
package html
