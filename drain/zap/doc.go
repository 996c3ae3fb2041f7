// Package zap adapts go.uber.org/zap to the drain log.Logger interface.
package zap
