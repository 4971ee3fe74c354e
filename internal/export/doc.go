// Package export renders recorded runs to other formats.
package export
