// 版权所有 2024 HITLFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，供 SQL
挂起登记存储（hitl/persistence.SQLStore）使用。

# 核心类型

  - Open/Dialector：按 config.DatabaseConfig 的驱动名（postgres、
    mysql、sqlite）构造 GORM 连接。
  - PoolManager：连接池管理器，持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close()。
  - PoolConfig：连接池配置与 Validate 校验。
  - StatsRecorder：健康检查时上报连接数的指标接口。

# 主要能力

  - 连接池调优：通过 MaxIdleConns/MaxOpenConns/ConnMaxLifetime 精细控制。
  - 健康检查：后台定时 PingContext 探活，并把连接数写入 Prometheus。
  - 统计采集：GetStats 返回结构化的连接池运行指标。
*/
package database
