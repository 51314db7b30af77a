package pkg

//该文件记录事务状态机和隔离级别的全局参数

type TransactionState string

const (
	TXActive    TransactionState = "Active"
	TXPreparing TransactionState = "Preparing"
	TXPrepared  TransactionState = "Prepared"
	TXCommitted TransactionState = "Committed"
	TXAborted   TransactionState = "Aborted"
	//超时终态, 语义上等价于 Aborted, 但单独上报便于诊断
	TXTimeout TransactionState = "Timeout"
)

func (s TransactionState) String() string {
	return string(s)
}

// 终态判断: Committed/Aborted/Timeout 之后状态不再变化
func (s TransactionState) Terminal() bool {
	return s == TXCommitted || s == TXAborted || s == TXTimeout
}

// 进行中判断: 进行中的事务会出现在活跃列表里
func (s TransactionState) InFlight() bool {
	return s == TXActive || s == TXPreparing || s == TXPrepared
}

// 状态机的合法边, 状态只能沿这些边前进, 不允许回退
// 特别地 Preparing 不允许回到 Active: 一旦开始 prepare 就不能再追加操作
var stateTransitions = map[TransactionState][]TransactionState{
	TXActive:    {TXPreparing, TXAborted, TXTimeout},
	TXPreparing: {TXPrepared, TXAborted, TXTimeout},
	TXPrepared:  {TXCommitted, TXAborted},
}

func canTransition(from, to TransactionState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// 隔离级别, 从弱到强有序; 引擎本身不加资源锁,
// 只把级别转发给参与者, 由参与者内部自行加锁
type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) String() string {
	switch l {
	case ReadUncommitted:
		return "ReadUncommitted"
	case ReadCommitted:
		return "ReadCommitted"
	case RepeatableRead:
		return "RepeatableRead"
	case Serializable:
		return "Serializable"
	default:
		return "Unknown"
	}
}

// 从配置字符串解析隔离级别, 无法识别时回退到默认的 ReadCommitted
func ParseIsolationLevel(s string) IsolationLevel {
	switch s {
	case "ReadUncommitted":
		return ReadUncommitted
	case "RepeatableRead":
		return RepeatableRead
	case "Serializable":
		return Serializable
	default:
		return ReadCommitted
	}
}
