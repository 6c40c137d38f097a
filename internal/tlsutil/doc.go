// Package tlsutil 提供集中式 TLS 配置，
// 供续接 webhook 的 HTTP 客户端与 Redis 连接使用（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
