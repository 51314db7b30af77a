package pkg

import "fmt"

//redis 示例参与者使用的 key 规则, 全部以事务和插件双重限定, 避免互相覆盖

func BuildTXStatusKey(pluginID, txID string) string {
	return fmt.Sprintf("PLUGIN_TX_status:%s_%s", txID, pluginID)
}

func BuildTXDetailKey(pluginID, txID string) string {
	return fmt.Sprintf("PLUGIN_TX_detail:%s_%s", txID, pluginID)
}

func BuildLockKey(pluginID, txID string) string {
	return fmt.Sprintf("PLUGIN_TX_lock:%s_%s", txID, pluginID)
}

func BuildStateKey(pluginID, txID, stateID string) string {
	return fmt.Sprintf("PLUGIN_STATE:%s_%s_%s", txID, pluginID, stateID)
}
