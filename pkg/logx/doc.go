// Package logx configures massdm's structured logging.
//
// Logger is a thin zerolog wrapper. Console output stays short (timestamp
// and file:line caller), JSON output goes to stdout or a file, and outputs
// can be swapped when the config is reloaded.
package logx
