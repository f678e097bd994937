// Package internal 實現了多人競速遊戲的即時會話協調器。
//
// 玩家經由 WebSocket 連入，建立或加入房間、準備、選車、開賽，
// 並在比賽中串流位置遙測。核心功能：
//
// 房間生命週期
//
// 提供完整的房間管理：
//   - 建立與解散（房主離開即解散，不移交）
//   - 加入守衛：密碼、人數上限、開賽中不可加入
//   - 準備狀態與車輛選擇
//   - 開賽、載入屏障、賽後重置
//
// # 併發模型
//
// 整個房間目錄與連線註冊表由 Coordinator 的單一鎖持有：
//   - 處理器在鎖內完成記憶體變更，再發出持久化呼叫
//   - Room、Registry、Directory 自身無鎖
//   - 需要等待持久層的路徑以鎖外延續執行，回鎖後重檢前置條件
//
// 持久化
//
// 記憶體狀態是即時對局的唯一權威，PostgreSQL 非同步跟進：
//   - 射後不理寫入，失敗記日誌、不重試
//   - 房間編號由 Redis INCR 簽發，降級時退回本地序號
//   - 啟動時從持久層播種房間結構（不播種成員）
//
// 架構分層
//
// 每層有明確的職責邊界：
//   - Handler 層：HTTP 端點（/ws、/health、/stats）
//   - Gateway 層：WebSocket 升級與讀寫泵
//   - Coordinator 層：事件處理與狀態協調
//   - Store 層：持久化適配器
package internal
