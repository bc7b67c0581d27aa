// Package config 负责加载并校验 walletd 的启动配置。配置为 JSON 文件，
// 缺省值在加载时补齐；保管库口令永远不进配置文件，只经环境变量传入。
package config
